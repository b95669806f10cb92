package bookmarks

import (
	"strings"

	"smart-bookmark-backend/pkg/models"
)

// Filter 按查询串过滤书签列表，保持输入顺序
// 匹配规则：title或url包含query（不区分大小写）
// 空查询原样返回输入；纯函数，无副作用、无网络访问
func Filter(list []models.Bookmark, query string) []models.Bookmark {
	if query == "" {
		return list
	}

	q := strings.ToLower(query)
	matched := make([]models.Bookmark, 0, len(list))
	for _, b := range list {
		if strings.Contains(strings.ToLower(b.Title), q) ||
			strings.Contains(strings.ToLower(b.URL), q) {
			matched = append(matched, b)
		}
	}
	return matched
}
