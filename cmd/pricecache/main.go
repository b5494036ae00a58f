// Package main - pricecache CLI
// 일별 시가/종가 캐시 갱신 진입점
//
// 사용법:
//
//	go run ./cmd/pricecache fetch AAPL 005930
//	go run ./cmd/pricecache update --universe universe.yaml
//	go run ./cmd/pricecache schedule --run-now
//	go run ./cmd/pricecache status
package main

import (
	"os"
	_ "time/tzdata" // exchange time zones for Yahoo dates

	"github.com/wonny/marketcache/cmd/pricecache/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
