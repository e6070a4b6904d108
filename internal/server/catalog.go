package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wehubfusion/Weaver/pkg/catalog"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

func (s *Server) listCatalog(c *gin.Context) {
	var entries []catalog.Entry
	if category := c.Query("category"); category != "" {
		entries = catalog.ByCategory(catalog.Category(category))
	} else {
		entries = catalog.All()
	}
	c.JSON(http.StatusOK, gin.H{
		"nodes": entries,
		"count": len(entries),
	})
}

func (s *Server) getCatalogEntry(c *gin.Context) {
	t := workflow.NodeType(c.Param("type"))
	entry, ok := catalog.Lookup(t)
	if !ok {
		abort(c, http.StatusNotFound, fmt.Errorf("%w: %s", ErrUnknownNodeType, t))
		return
	}
	c.JSON(http.StatusOK, entry)
}
