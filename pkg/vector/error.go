package vector

import "errors"

// ErrConnection is returned when the vector store cannot be reached.
var ErrConnection = errors.New("vector store connection failed")
