/*
包 server 提供 HTTP 服务器生命周期管理。

Manager 封装 net/http.Server：Start 非阻塞监听，Run 阻塞直到
context 结束后优雅关闭，适合放进 errgroup 与 API、metrics 两个
服务器并行运行。Config 可由 config.ServerConfig 经 ConfigFrom 生成。
*/
package server
