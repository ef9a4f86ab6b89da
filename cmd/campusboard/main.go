// Command campusboard は掲示板APIサーバー、台帳検査ワーカー、マイグレーションを
// サブコマンドで切り替えて起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/campusboard/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "campusboard: %v\n", err)
		os.Exit(1)
	}
}
