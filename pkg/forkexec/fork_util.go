package forkexec

// prepareFiles 把描述符表转换为子进程可直接使用的 int 切片
func prepareFiles(files []uintptr) []int {
	fds := make([]int, len(files))
	for i, f := range files {
		fds[i] = int(f)
	}
	return fds
}

// nextAvailFd 计算一个比所有参与重排的描述符都大的起始编号。
// 子进程先把同步描述符和整张表搬到这个编号之上，
// 再落回目标位置，这样任意的源/目标重叠都不会互相覆盖。
func nextAvailFd(files []int, p [2]int) int {
	next := len(files)
	for _, fd := range files {
		if fd >= next {
			next = fd + 1
		}
	}
	if p[1] >= next {
		next = p[1] + 1
	}
	return next
}
