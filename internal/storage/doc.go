// Package storage 持久化上传的数据文件与模型交互记录。
//
// 支持三种驱动：memory 以 JSON 行日志落盘，便于本地迭代；mysql 与 sqlite
// 共用同一套 SQL 仓库，并在启动时执行 deploy/migrations 下对应方言的迁移。
package storage
