package main

//go:generate swag init -g cmd/server/main.go -o docs

// @title           Export Alpha Backtest API
// @version         0.1.0
// @description     Monthly export-surprise backtests: run control, portfolio, trades, and metrics.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
