// Command chatdb 是聊天数据库的维护工具：备份、恢复、统计、导出、清理与停用账号。
package main

func main() {
	Execute()
}
