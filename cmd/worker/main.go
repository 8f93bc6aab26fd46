package main

// ============================================================================
// 職責說明：
// 1. CLI 應用程式入口點
// 2. 執行 cobra 命令樹，所有邏輯在 internal/cli
// 3. 命令失敗時以狀態碼 1 結束（probe 偵測到主節點失效也是如此）
// ============================================================================

import (
	"os"

	"github.com/ChuLiYu/standby-failover/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
