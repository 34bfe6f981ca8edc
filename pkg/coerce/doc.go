// Package coerce implements the per-kind validation and coercion rules
// applied to every value a script assigns to a markup field.
//
// Loose mode converts where it can (a string "42" becomes the number 42, a
// scalar assigned to an array field becomes a one-element array). Strict
// mode, enabled for the whole evaluation or per field, requires the value to
// already have the right type. Error messages are part of the user-facing
// contract and are reported verbatim.
package coerce
