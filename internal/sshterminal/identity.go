package sshterminal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// IdentitySeparator joins the fields of the backend identity triple.
const IdentitySeparator = '#'

// ErrMalformedIdentity is returned by ParseIdentity for anything that is not
// exactly username#vmId#token with non-empty fields.
var ErrMalformedIdentity = errors.New("malformed backend identity")

// Identity is the principal presented to the shell backend.
type Identity struct {
	Username string
	VMID     uint
	Token    string
}

// String renders the identity as the SSH user name.
func (id Identity) String() string {
	return fmt.Sprintf("%s%c%d%c%s", id.Username, IdentitySeparator, id.VMID, IdentitySeparator, id.Token)
}

// ParseIdentity parses an SSH user name produced by Identity.String.
func ParseIdentity(s string) (Identity, error) {
	parts := strings.Split(s, string(IdentitySeparator))
	if len(parts) != 3 {
		return Identity{}, ErrMalformedIdentity
	}
	if parts[0] == "" || parts[2] == "" {
		return Identity{}, ErrMalformedIdentity
	}
	vmID, err := strconv.ParseUint(parts[1], 10, 0)
	if err != nil || vmID == 0 {
		return Identity{}, ErrMalformedIdentity
	}
	return Identity{Username: parts[0], VMID: uint(vmID), Token: parts[2]}, nil
}
