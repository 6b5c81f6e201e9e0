//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var Aliases = map[string]any{
	"install": Install.Release,
}

type Install mg.Namespace

func (Install) Release() error {
	return sh.RunWith(map[string]string{
		"CGO_ENABLED": "0",
	}, mg.GoCmd(), "install", "-ldflags", "-w -s", "-trimpath", "./cmd/polyls")
}

func (Install) Debug() error {
	return sh.RunWith(map[string]string{
		"CGO_ENABLED": "0",
	}, mg.GoCmd(), "install", "-gcflags", "all=-N -l", "./cmd/polyls")
}

func Test() error {
	return sh.RunV(mg.GoCmd(), "test", "-race", "./...")
}
