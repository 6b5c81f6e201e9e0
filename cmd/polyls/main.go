package main

import "github.com/kralicky/polyls/pkg/polyls"

func main() {
	polyls.Execute()
}
