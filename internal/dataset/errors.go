package dataset

import (
	"fmt"
	"strings"

	xerrors "SmartBI-Agent/internal/errors"
)

const (
	// CodeLoad 表示 CSV 无法读取或解析。
	CodeLoad = xerrors.CodeLoad
	// CodeNotFound 表示请求的数据集名称不存在。
	CodeNotFound = xerrors.CodeDatasetNotFound
)

func newLoadError(path string, cause error) error {
	return xerrors.Wrap(CodeLoad, cause, "", xerrors.WithMetadata("path", path))
}

// NotFoundMessage 渲染未找到数据集时返回给调用方的文本，附带当前可用名称。
func NotFoundMessage(name string, available []string) string {
	return fmt.Sprintf("DataFrame '%s' not found. Available DataFrames: %s", name, pyList(available))
}

func newNotFoundError(name string, available []string) error {
	return xerrors.New(CodeNotFound, NotFoundMessage(name, available), xerrors.WithMetadata("dataset", name))
}

// pyList 以 ['a', 'b'] 形式渲染名称列表。
func pyList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = "'" + strings.ReplaceAll(item, "'", "\\'") + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// Detail 返回错误的底层原因文本，去掉错误码与包装信息。
func Detail(err error) string {
	if e, ok := xerrors.From(err); ok && e.Unwrap() != nil {
		return xerrors.Text(e.Unwrap())
	}
	return xerrors.Text(err)
}
