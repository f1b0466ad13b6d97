// Package mocks provides centralized mock implementations for testing.
//
// Mocks follow one pattern: a function field per interface method
// (e.g. ProduceFn) that overrides the default behaviour, plus call tracking
// guarded by a mutex so mocks can be shared by concurrent tasks.
//
//	producer := &mocks.MockProducer{
//	    ProduceFn: func(ctx context.Context, req domain.GenerationRequest) (*domain.Composition, error) {
//	        return nil, errors.New("model offline")
//	    },
//	}
package mocks
