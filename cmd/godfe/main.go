// Command godfe is the NF-e distribution client and service.
package main

import "github.com/sirosfoundation/go-dfe/internal/cli"

func main() {
	cli.Execute()
}
