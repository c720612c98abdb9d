// Package principal implements Warden's principal registry.
//
// A principal is the canonical server-side record of an authenticated
// subject. Warden does not verify passwords or upstream assertions; it
// registers the subject it is handed and anchors sessions to that record.
//
// This package is intentionally dependency-light and security-first.
package principal
