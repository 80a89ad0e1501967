// Package main implements the amplify CLI: sign-in and account lifecycle,
// session inspection, storage object operations, and analytics event
// submission against a configured backend.
package main

func main() {
	execute()
}
