// Command valor-workspaces inspects and serves Valor's workspace isolation
// rules: which chat may reach which Notion workspace and which directories.
package main

func main() {
	Execute()
}
