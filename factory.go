package pdx

import (
	"context"

	"github.com/rawbytedev/pdx/pkg/codec"
)

// InstanceFactory builds an Instance of a class without a Go type. Fields
// are written with the Writer methods, in any order, and Create finalizes
// the instance. A factory can be used once.
type InstanceFactory struct {
	*writer
}

// NewInstanceFactory starts an instance of className. ctx is used for type
// id requests made while nested objects are written.
func (s *Serializer) NewInstanceFactory(ctx context.Context, className string) *InstanceFactory {
	w := s.newWriter(ctx)
	w.collect(className)
	return &InstanceFactory{writer: w}
}

// Create registers the written shape and returns the instance. Calling it
// again returns ErrAlreadyFinalized.
func (f *InstanceFactory) Create(ctx context.Context) (*Instance, error) {
	payload, varStarts, err := f.finish()
	if err != nil {
		return nil, err
	}
	s := f.s
	if _, err := s.reg.TypeID(ctx, f.td); err != nil {
		return nil, err
	}
	td := s.reg.Register(f.td)
	out := codec.NewOutput(len(payload) + 16)
	appendEnvelope(out, td.TypeID(), payload, varStarts)
	data := out.Bytes()
	return s.newInstance(td, data, len(data)-headerLen(data))
}
