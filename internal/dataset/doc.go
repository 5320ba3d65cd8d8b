// Package dataset 维护进程内按名称索引的表格数据集。
//
// Registry 是显式创建的实例而非全局变量，负责名称分配、CSV 加载以及
// 结构/统计/相关性报表的生成。并发访问由上层 engine 串行化，Registry
// 自身仍然使用读写锁保护内部状态。
package dataset
