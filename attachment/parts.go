package attachment

import (
	"io"

	"github.com/emersion/go-message"
)

// Part exposes the raw headers of one MIME part by case-insensitive name.
// A missing header is reported as an empty string.
type Part interface {
	Header(name string) string
}

type entityPart struct {
	header message.Header
}

func (p entityPart) Header(name string) string {
	return p.header.Get(name)
}

// Parts flattens the MIME tree of a message entity into its parts in
// document order: a pre-order traversal that includes the root and every
// multipart container, since those carry headers of their own.
func Parts(ent *message.Entity) []Part {
	var out []Part
	collect(ent, &out)
	return out
}

func collect(ent *message.Entity, out *[]Part) {
	*out = append(*out, entityPart{header: ent.Header})

	mr := ent.MultipartReader()
	if mr == nil {
		return
	}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A truncated or broken multipart body ends the traversal;
			// the parts seen so far are still usable.
			break
		}
		collect(p, out)
	}
}
