// Package pg implements the principal and login-attempt stores on
// PostgreSQL via database/sql with the pgx driver. It is the reference
// persistence collaborator; hosts with their own data layer implement the
// fleetauth store interfaces directly instead.
package pg
