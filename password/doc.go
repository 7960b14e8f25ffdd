// Package password hashes and verifies password material with argon2id,
// encoded in the PHC string format so parameters travel with the hash.
package password
