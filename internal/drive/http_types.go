package drive

// entryDTO is the wire representation of a drive object.
type entryDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsFolder     bool   `json:"is_folder"`
	ModifiedTime string `json:"modified_time"` // RFC3339
}

func (d *entryDTO) toEntry() (*Entry, error) {
	modTime, err := ParseWireTime(d.ModifiedTime)
	if err != nil {
		return nil, err
	}
	return &Entry{
		ID:       d.ID,
		Name:     d.Name,
		IsFolder: d.IsFolder,
		ModTime:  modTime,
	}, nil
}

type listChildrenResponse struct {
	Children []*entryDTO `json:"children"`
}

type createFolderRequest struct {
	Name   string `json:"name"`
	Parent string `json:"parent"`
}
