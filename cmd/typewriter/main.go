// Command typewriter chats with a typewriter-chat server from the terminal. Replies are streamed
// from the server's /chat endpoint and printed at the configured typing speed.
package main

func main() {
	Execute()
}
