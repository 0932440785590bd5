/*
Package coach 实现持续改进（CI）教练的会话编排。

supervisor 节点读取对话历史，给出路由标签；九个教练节点（problem、value_prop、
process_map、sipoc、fishbone、five_whys、a3、kaizen、charts）各自调用模型，
从回复中提取 JSON 并写回共享状态，然后把控制权交还 supervisor。
标签为 idle 时本轮结束。

状态在每一步之间以普通 map 形式往返，节点返回 StateUpdate，
由 Merge 按字段归并。渲染失败写入审计日志，本轮照常完成；
模型或 JSON 错误使本轮失败，会话状态不变。
*/
package coach
