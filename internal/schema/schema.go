// Package schema provides the principal schematics for all other packages. It
// defines the shared filesystem error taxonomy and file types, and provides
// implementations for handling (Unix-based) operating system syscalls. The
// package serves as a foundational layer for image file interactions
// throughout the codebase.
package schema
