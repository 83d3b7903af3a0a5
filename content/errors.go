package content

import "errors"

// ErrInvalidDocument is returned when a document's top-level shape is wrong.
var ErrInvalidDocument = errors.New("content: invalid document")
