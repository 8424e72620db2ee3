// Package authority allocates and serves the cluster-wide ids of PDX types
// and enum constants.
//
// Every implementation returns fresh descriptor values from FetchType, so two
// serializers sharing an authority never share per-process flags.
package authority

import (
	"context"
	"errors"

	"github.com/rawbytedev/pdx/pkg/pdxtype"
)

// ErrNotFound is returned when an id has never been allocated.
var ErrNotFound = errors.New("authority: not found")

// Authority is the source of truth for type and enum ids.
type Authority interface {
	// RequestTypeID returns the id of a descriptor with the same class and
	// fields, allocating one if no such descriptor is registered.
	RequestTypeID(ctx context.Context, t *pdxtype.TypeDescriptor) (int32, error)
	FetchType(ctx context.Context, id int32) (*pdxtype.TypeDescriptor, error)
	RequestEnumValue(ctx context.Context, e pdxtype.EnumDescriptor) (int32, error)
	FetchEnum(ctx context.Context, id int32) (pdxtype.EnumDescriptor, error)
}
