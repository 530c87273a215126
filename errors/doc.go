// Package errors defines the structured error returned by the watermarker.
//
// An Error carries the Phase that failed (embed, extract, decode, ...) and a
// Kind. errors.Is matches on both, so callers can test for a category:
//
//	if errors.Is(err, &errors.Error{Kind: errors.KindInvalidInput}) {
//	    ...
//	}
//
// Errors are built with New and the Builder methods:
//
//	err := errors.New(errors.PhaseEmbed, errors.KindInvalidInput).
//		Method("function-ordering").
//		Detail("chunk size %d out of range [2, 20]", n).
//		Build()
package errors
