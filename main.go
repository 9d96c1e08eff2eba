package main

import (
	"duochat/app"
)

func main() {
	a := app.New(nil, nil)
	a.Start()
}
