// Команда rcsd: сигнальное ядро RCS (SIP сессии, pager сообщения и
// передача файлов через HTTP).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
