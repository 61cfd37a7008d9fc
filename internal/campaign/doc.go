// Package campaign implements campaign lifecycle management and sending.
//
// The service layer owns the business logic for validating, dispatching,
// and completing email campaigns. It depends on the Repository interface
// defined in this package; the Postgres implementation lives alongside it
// in store.go and also backs the public tracking endpoints.
package campaign
