// Command importctl runs and inspects employee imports from the shell.
package main

func main() {
	Execute()
}
