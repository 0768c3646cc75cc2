// Package sshterminal opens the backend side of a browser terminal: an SSH
// connection to the shell backend carrying a PTY-backed interactive shell.
//
// The gateway holds no per-VM credentials. It authenticates to the backend
// with an identity triple as the SSH user name,
//
//	<username>#<vmId>#<terminalToken>
//
// and a transport credential as the password. The backend parses the triple
// with [ParseIdentity] and performs its own authorization; a malformed or
// inconsistent triple must be treated as an authentication failure.
//
// # Credentials
//
//   - [SharedSecret]: a fixed password shared by gateway and backend.
//   - [FernetCredential]: a Fernet token sealing the identity triple, which
//     the backend verifies with [VerifyFernetPassword]. This binds the
//     password to one session instead of reusing a static secret.
//
// # Liveness
//
// Every connection runs a keepalive loop sending keepalive@openssh.com
// requests. After KeepaliveMax consecutive misses the SSH client is closed,
// which surfaces as a read error on [TerminalSession.Read].
//
// # Log Prefixes
//
// Backend operations log at the [sshterminal] prefix.
package sshterminal
