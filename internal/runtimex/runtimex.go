// Package runtimex contains runtime assertions.
package runtimex

import "fmt"

// PanicIfFalse panics with the given message when the assertion is false.
func PanicIfFalse(assertion bool, message any) {
	if !assertion {
		panic(message)
	}
}

// PanicIfTrue panics with the given message when the assertion is true.
func PanicIfTrue(assertion bool, message any) {
	if assertion {
		panic(message)
	}
}

// Assert is an alias for [PanicIfFalse].
func Assert(assertion bool, message any) {
	PanicIfFalse(assertion, message)
}

// PanicOnError panics if err is not nil, prefixing the panic with message.
func PanicOnError(err error, message string) {
	if err != nil {
		panic(fmt.Errorf("%s: %w", message, err))
	}
}
