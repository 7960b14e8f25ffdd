// Package session is the device-session registry. One record represents one
// authenticated device; multiple concurrent sessions per principal are
// permitted. Records live in Redis so invalidation is visible to every
// application instance.
package session
