package main

import (
	"sentinal-call/config"
	"sentinal-call/internal/app"

	"go.uber.org/fx"
)

func main() {
	cfg := config.LoadConfig()

	application := fx.New(
		app.Module(cfg),
	)

	application.Run()
}
