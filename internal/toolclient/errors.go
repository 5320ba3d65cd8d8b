package toolclient

import xerrors "SmartBI-Agent/internal/errors"

const (
	// CodeConnect 表示无法连接引擎或获取工具清单。
	CodeConnect = xerrors.CodeConnect
	// CodeDispatch 表示工具调用在传输层失败或引擎拒绝了调用。
	CodeDispatch = xerrors.CodeDispatch
)
