package main

import "github.com/veupathdb/oauth-server/cmd/oauthctl/cmd"

func main() {
	cmd.Execute()
}
