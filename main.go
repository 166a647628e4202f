package main

import "github.com/jwmeyers/ptmc/cmd"

// TODO: persist the adaptive covariance alongside the chain so a resumed
//       run keeps its tuned proposals instead of re-adapting from scratch

func main() {
	cmd.Execute()
}
