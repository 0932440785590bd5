/*
包 database 提供会话存储使用的 GORM 连接池管理。

Open 按 config.DatabaseConfig 选择 postgres、mysql 或 sqlite 方言，
PoolManager 负责连接池参数、后台探活与事务重试（死锁、
序列化失败、sqlite 锁等场景）。
*/
package database
