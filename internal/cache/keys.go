package cache

import "fmt"

// CollectionKey addresses a collection row by id.
func CollectionKey(id string) string {
	return "collection:" + id
}

// CollectionPathKey addresses a collection id by project and path.
func CollectionPathKey(projectID, path string) string {
	return fmt.Sprintf("collection-path:%s:%s", projectID, path)
}

// ConfigKey addresses a configuration document.
func ConfigKey(projectID, name string) string {
	return fmt.Sprintf("config:%s:%s", projectID, name)
}
