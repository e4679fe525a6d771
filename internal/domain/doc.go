// Package domain defines the validated value objects for the newsletter
// platform.
//
// Types in this package are pure values with no database or HTTP concerns.
// They are the shared language between handlers, the delivery worker, and
// the stores.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - Validation lives in ParseX constructors; a constructed value is valid
package domain
