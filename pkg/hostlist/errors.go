package hostlist

import "fmt"

// UnresolvableAliasError: an alias used in the reference list expanded to
// no hosts.
type UnresolvableAliasError struct{ Alias string }

func (e *UnresolvableAliasError) Error() string {
	return fmt.Sprintf("alias %q resolved to no hosts", e.Alias)
}

// UnresolvableHostRefError: a reference is neither a known alias nor an
// exact host name.
type UnresolvableHostRefError struct{ Ref string }

func (e *UnresolvableHostRefError) Error() string {
	return fmt.Sprintf("host reference %q did not match any alias or host", e.Ref)
}

// HostSelectionError: start-at/stop-before names a host not present in the
// resolved list.
type HostSelectionError struct {
	Kind string // "start-at" or "stop-before"
	Name string
}

func (e *HostSelectionError) Error() string {
	return fmt.Sprintf("%s host %q is not present in the resolved host list", e.Kind, e.Name)
}
