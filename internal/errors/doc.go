// Package errors provides structured, actionable error messages for pages.
//
// Every user-facing failure carries a code that maps to a short message, a
// longer explanation and a documentation URL:
//   - E100-E109: configuration
//   - E110-E119: compilation
//   - E120-E129: prerendering
//   - E130-E139: serving
//   - E140-E149: deploying
//   - E150-E159: command line
//
// # Usage
//
//	err := errors.New("E110").
//	    WithDetail(strings.Join(messages, "\n")).
//	    WithLocation("src/Index.jsx", 12, 4)
//
//	errors.PrintError(err)
package errors
