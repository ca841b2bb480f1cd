// Murmur is a terminal chat client.
package main

import "Murmur/cmd"

func main() {
	cmd.Execute()
}
