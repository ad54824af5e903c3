// Command memalloc exercises the first-fit heap: it replays the reference
// allocation scenario and stress-tests the heap under concurrent callers.
package main

func main() {
	execute()
}
