// Package memfd 提供 Linux memfd（匿名内存文件）的封装，
// 用于构造映射编辑的后备资源：一个装着指令或数据字节、
// 密封为只读的文件描述符，可以安全地交给目标进程去映射。
// 密封保证观测期间页内容不会被任何持有者改写。
//
// 要求 Linux 内核版本 >= 3.17
package memfd
