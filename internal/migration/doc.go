/*
包 migration 管理会话表 coach_sessions 的 Schema 迁移，基于
golang-migrate，支持 PostgreSQL、MySQL 与 SQLite（modernc 纯 Go 驱动）。

各方言的 SQL 文件通过 embed.FS 内嵌在 migrations/<driver>/ 下。
CLI 为 `cicoach migrate up|down|steps|force|status|version` 提供输出。
*/
package migration
