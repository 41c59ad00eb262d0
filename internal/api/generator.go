package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/specfit/pkg/models"
)

const generatorSystem = `You repair generated Python web services so that they satisfy their specification.

Reply with a patch and nothing else. Use either a unified diff against the files shown,
or full replacements of whole files in this form:
