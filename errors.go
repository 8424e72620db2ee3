package pdx

import (
	"errors"

	"github.com/rawbytedev/pdx/pkg/pdxtype"
)

var (
	ErrUnknownTypeID      = errors.New("pdx: unknown type id")
	ErrFieldShapeMismatch = errors.New("pdx: field shape mismatch")
	ErrDuplicateField     = pdxtype.ErrDuplicateField
	ErrAlreadyFinalized   = errors.New("pdx: instance already finalized")
	ErrUnsupportedObject  = errors.New("pdx: unsupported object")
	ErrNotStruct          = errors.New("pdx: expected struct")
)
